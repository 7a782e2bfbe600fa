// Package kyc orchestrates identity verification against the national
// registries. Verification is two-step: initiate opens a registry request,
// verify confirms it and compares the registered name before raising the
// account's assurance level.
package kyc

import (
	"regexp"
	"time"

	dErrors "civis/pkg/domain-errors"
)

// DocType selects which registry a document is checked against.
type DocType string

const (
	DocNationalID DocType = "national_id"
	DocTaxID      DocType = "tax_id"
)

// OtherDoc returns the counterpart document type.
func OtherDoc(docType DocType) DocType {
	if docType == DocNationalID {
		return DocTaxID
	}
	return DocNationalID
}

var (
	nationalIDPattern = regexp.MustCompile(`^[0-9]{12}$`)
	taxIDPattern      = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
)

// ValidateNumber checks a document number against its type's format before
// anything leaves the service.
func ValidateNumber(docType DocType, number string) error {
	switch docType {
	case DocNationalID:
		if !nationalIDPattern.MatchString(number) {
			return dErrors.New(dErrors.CodeInvalidDocument, "national ID must be 12 digits")
		}
	case DocTaxID:
		if !taxIDPattern.MatchString(number) {
			return dErrors.New(dErrors.CodeInvalidTaxID, "tax ID format is invalid")
		}
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "unsupported document type")
	}
	return nil
}

// Config holds orchestration policy. Zero values get defaults from New.
type Config struct {
	// NameThreshold is the minimum similarity (0-100) between the supplied
	// name and the registry's registered holder name.
	NameThreshold int
	// PendingTTL bounds how long an initiated request stays answerable.
	PendingTTL time.Duration
	// InitiatePerUser limits registry calls per user per window.
	InitiatePerUser int
	RateWindow      time.Duration
}

func DefaultConfig() Config {
	return Config{
		NameThreshold:   85,
		PendingTTL:      15 * time.Minute,
		InitiatePerUser: 5,
		RateWindow:      time.Hour,
	}
}

// Pending is an initiated registry request awaiting confirmation. The
// document number is held only for the TTL window and only server-side.
type Pending struct {
	RequestID string    `json:"request_id"`
	DocType   DocType   `json:"doc_type"`
	Number    string    `json:"number"`
	CreatedAt time.Time `json:"created_at"`
}

// InitiateResult is returned to the client; the document number is not. The
// masked channel tells the user where the registry sent the one-time code.
type InitiateResult struct {
	RequestID     string    `json:"request_id"`
	DocType       DocType   `json:"doc_type"`
	MaskedChannel string    `json:"masked_channel"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// VerifyInput is the caller's confirmation of an initiated request. Number
// must repeat the initiated document; SecondNumber optionally carries the
// other document so both can verify in one call; Code is the one-time code
// the registry sent to the holder's registered channel.
type VerifyInput struct {
	RequestID    string
	Number       string
	SecondNumber string
	Code         string
}

// ConfirmRequest is what goes to the registry to close out a verification.
type ConfirmRequest struct {
	RequestID    string
	Number       string
	SecondNumber string
	Code         string
}

// NameMatch reports the fuzzy comparison between the account name and the
// registry's registered holder name.
type NameMatch struct {
	Similarity int  `json:"similarity"`
	Matched    bool `json:"matched"`
}

// VerifyResult reports the post-verification account state.
type VerifyResult struct {
	KYCLevel         int       `json:"kyc_level"`
	DocumentVerified bool      `json:"document_verified"`
	TaxIDVerified    bool      `json:"tax_id_verified"`
	NameMatch        NameMatch `json:"name_match"`
}

// StatusResult summarizes verification progress.
type StatusResult struct {
	KYCLevel         int     `json:"kyc_level"`
	DocumentVerified bool    `json:"document_verified"`
	TaxIDVerified    bool    `json:"tax_id_verified"`
	PendingDocType   DocType `json:"pending_doc_type,omitempty"`
}
