package validator

import (
	"errors"
	"testing"
)

type settingsPayload struct {
	Settings map[string]string `json:"settings" binding:"required,min=1,dive,keys,setting_key,endkeys,max=255"`
}

type loginPayload struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

func TestStructUsesJSONNames(t *testing.T) {
	fields := Struct(&loginPayload{Username: "siswa01", Password: "123"})
	if len(fields) != 1 {
		t.Fatalf("fields = %v", fields)
	}
	if _, ok := fields["password"]; !ok {
		t.Errorf("expected json field name, got %v", fields)
	}
}

func TestSettingKey(t *testing.T) {
	cases := []struct {
		name    string
		payload settingsPayload
		wantErr bool
	}{
		{"valid", settingsPayload{Settings: map[string]string{"passing_score": "70"}}, false},
		{"empty map", settingsPayload{Settings: map[string]string{}}, true},
		{"upper case key", settingsPayload{Settings: map[string]string{"PassingScore": "70"}}, true},
		{"leading digit", settingsPayload{Settings: map[string]string{"1score": "70"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := Struct(&tc.payload)
			if (fields != nil) != tc.wantErr {
				t.Errorf("fields = %v, wantErr %v", fields, tc.wantErr)
			}
		})
	}
}

func TestTranslateNonValidationError(t *testing.T) {
	fields := TranslateErrors(errors.New("unexpected EOF"))
	if fields["detail"] != "unexpected EOF" {
		t.Errorf("fields = %v", fields)
	}
}
