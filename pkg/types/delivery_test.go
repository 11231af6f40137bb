package types

import "testing"

func TestDeliveryInfoValidate(t *testing.T) {
	valid := DeliveryInfo{
		RecipientName: "Ada Obi",
		Phone:         "+2348000000000",
		Line1:         "12 Marina Road",
		City:          "Lagos",
		State:         "Lagos",
		Country:       "NG",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid delivery, got %v", err)
	}

	missingPhone := valid
	missingPhone.Phone = "  "
	if err := missingPhone.Validate(); err == nil {
		t.Fatal("expected missing phone to fail")
	}

	missingCity := valid
	missingCity.City = ""
	if err := missingCity.Validate(); err == nil {
		t.Fatal("expected missing city to fail")
	}
}
