package kyc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "civis/pkg/domain-errors"
)

func TestValidateNumber(t *testing.T) {
	tests := []struct {
		name     string
		docType  DocType
		number   string
		wantCode dErrors.Code
	}{
		{"valid national id", DocNationalID, "199203154321", ""},
		{"national id too short", DocNationalID, "12345678901", dErrors.CodeInvalidDocument},
		{"national id with letters", DocNationalID, "19920315432A", dErrors.CodeInvalidDocument},
		{"national id too long", DocNationalID, "1992031543210", dErrors.CodeInvalidDocument},
		{"valid tax id", DocTaxID, "ABCDE1234F", ""},
		{"tax id lowercase", DocTaxID, "abcde1234f", dErrors.CodeInvalidTaxID},
		{"tax id wrong shape", DocTaxID, "AB1234CDEF", dErrors.CodeInvalidTaxID},
		{"tax id too short", DocTaxID, "ABCDE123F", dErrors.CodeInvalidTaxID},
		{"unknown doc type", DocType("passport"), "X1234567", dErrors.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNumber(tt.docType, tt.number)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, dErrors.Is(err, tt.wantCode), "got %v", err)
		})
	}
}
