package limits

import (
	"errors"
	"strings"
	"testing"
)

// TestMaxRTPPayloadCalculation verifies the payload budget arithmetic for the default MTU.
func TestMaxRTPPayloadCalculation(t *testing.T) {
	expected := DefaultMTU - IPv4HeaderSize - UDPHeaderSize - RTPHeaderSize
	if MaxRTPPayload != expected {
		t.Errorf("MaxRTPPayload = %d, want %d", MaxRTPPayload, expected)
	}

	budget, err := RTPPayloadBudget(DefaultMTU)
	if err != nil {
		t.Fatalf("RTPPayloadBudget(DefaultMTU) returned error: %v", err)
	}
	if budget != MaxRTPPayload {
		t.Errorf("RTPPayloadBudget(DefaultMTU) = %d, want %d", budget, MaxRTPPayload)
	}
}

func TestRTPPayloadBudgetTooSmall(t *testing.T) {
	_, err := RTPPayloadBudget(IPv4HeaderSize + UDPHeaderSize + RTPHeaderSize)
	if !errors.Is(err, ErrMTUTooSmall) {
		t.Errorf("expected ErrMTUTooSmall, got %v", err)
	}
}

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		max     int
		wantErr error
	}{
		{"empty", 0, 10, ErrEmpty},
		{"at limit", 10, 10, nil},
		{"below limit", 5, 10, nil},
		{"over limit", 11, 10, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(tt.size, tt.max)
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSDP(t *testing.T) {
	if err := ValidateSDP(""); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if err := ValidateSDP("v=0\n"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	oversized := strings.Repeat("a", MaxSDPSize+1)
	err := ValidateSDP(oversized)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if !strings.Contains(err.Error(), "4097") {
		t.Errorf("error should carry the actual size: %v", err)
	}
}

func TestValidateMetadataMessage(t *testing.T) {
	if err := ValidateMetadataMessage(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if err := ValidateMetadataMessage(make([]byte, MaxMetadataMessage)); err != nil {
		t.Errorf("unexpected error at limit: %v", err)
	}
	if err := ValidateMetadataMessage(make([]byte, MaxMetadataMessage+1)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}
