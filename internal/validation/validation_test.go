package validation

import (
	"errors"
	"testing"

	"github.com/installmatch/backend/internal/apperrors"
)

func TestNew_CompilesAllSchemas(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, name := range []string{Amount, ValidateBalance, CreateWorkOrder, AdvanceStatus,
		CancellationRequest, CancellationDecision, Register, Login} {
		if _, ok := v.schemas[name]; !ok {
			t.Errorf("schema %q not loaded", name)
		}
	}
}

func TestValidate(t *testing.T) {
	v := MustNew()
	tests := []struct {
		name   string
		schema string
		body   string
		ok     bool
	}{
		{"amount ok", Amount, `{"amount": 5000}`, true},
		{"amount zero", Amount, `{"amount": 0}`, false},
		{"amount fractional", Amount, `{"amount": 1.5}`, false},
		{"amount missing", Amount, `{}`, false},
		{"order ok", CreateWorkOrder, `{"budget_amount": 80000, "is_urgent": true, "details": {"address": "x"}}`, true},
		{"order reupload", CreateWorkOrder, `{"budget_amount": 1, "original_work_order_id": "WO-20260101-abcd1234"}`, true},
		{"order unknown field", CreateWorkOrder, `{"budget_amount": 1, "status": "completed"}`, false},
		{"order negative", CreateWorkOrder, `{"budget_amount": -5}`, false},
		{"status ok", AdvanceStatus, `{"status": "product_ready"}`, true},
		{"status cancelled not allowed", AdvanceStatus, `{"status": "cancelled"}`, false},
		{"status assigned not allowed", AdvanceStatus, `{"status": "assigned"}`, false},
		{"cancel reason", CancellationRequest, `{"reason": "customer unreachable"}`, true},
		{"cancel empty reason", CancellationRequest, `{"reason": ""}`, false},
		{"decision", CancellationDecision, `{"approve": false}`, true},
		{"decision wrong type", CancellationDecision, `{"approve": "yes"}`, false},
		{"register admin refused", Register, `{"email":"a@b.co","password":"longenough","display_name":"A","role":"admin"}`, false},
		{"register ok", Register, `{"email":"a@b.co","password":"longenough","display_name":"A","role":"seller"}`, true},
		{"malformed json", Login, `{`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.schema, []byte(tc.body))
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, apperrors.ErrValidation) {
					t.Errorf("error %v does not wrap ErrValidation", err)
				}
			}
		})
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	err := MustNew().Validate("nope", []byte(`{}`))
	if err == nil || errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("err = %v, want non-validation error", err)
	}
}
