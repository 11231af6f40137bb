package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type priceBody struct {
	Name     string           `json:"name" validate:"required"`
	Price    decimal.Decimal  `json:"price" validate:"money"`
	Expected *decimal.Decimal `json:"expected,omitempty" validate:"omitempty,money"`
}

func decode(t *testing.T, body string) (priceBody, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest priceBody
	err := DecodeJSONBody(req, &dest)
	return dest, err
}

func TestDecodeJSONBodyMoney(t *testing.T) {
	got, err := decode(t, `{"name":"rice","price":"2500.50"}`)
	require.NoError(t, err)
	require.True(t, got.Price.Equal(decimal.RequireFromString("2500.5")))

	for _, body := range []string{
		`{"name":"rice","price":"-1"}`,
		`{"name":"rice","price":"10.005"}`,
		`{"name":"rice","price":"1","expected":"-3"}`,
	} {
		_, err := decode(t, body)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), body)
		details, ok := pkgerrors.As(err).Details().(map[string]string)
		require.True(t, ok, body)
		require.Contains(t, details[moneyField(body)], "at most 2 decimal places")
	}
}

func moneyField(body string) string {
	if strings.Contains(body, "expected") {
		return "expected"
	}
	return "price"
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	_, err := decode(t, `{"name":"rice","price":"1","colour":"red"}`)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = decode(t, `{"price":"1"}`)
	details := pkgerrors.As(err).Details().(map[string]string)
	require.Equal(t, "is required", details["name"])
}

func TestSanitizeString(t *testing.T) {
	require.Equal(t, "Ada Lovelace", SanitizeString("  Ada Lovelace \t", 0))
	require.Equal(t, "abc", SanitizeString("a\x00b\x07c", 10))
	require.Equal(t, "Adébáy", SanitizeString("Adébáyọ̀", 6))
	require.Equal(t, "line one\nline two", SanitizeString("line one\nline two", 100))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=30&bad=x&big=500", nil)

	v, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 30, v)

	v, err = ParseQueryInt(req, "missing", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 25, v)

	_, err = ParseQueryInt(req, "bad", 25, 1, 100)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = ParseQueryInt(req, "big", 25, 1, 100)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
