package store

import "fmt"

// MaxLabelLength is the maximum allowed length for session labels.
const MaxLabelLength = 64

// MaxMissionLength caps stored mission text.
const MaxMissionLength = 8192

// ValidateRecord checks field sizes before insert.
func ValidateRecord(rec RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if len(rec.Label) > MaxLabelLength {
		return fmt.Errorf("label too long: %d chars (max %d)", len(rec.Label), MaxLabelLength)
	}
	if len(rec.Mission) > MaxMissionLength {
		return fmt.Errorf("mission too long: %d chars (max %d)", len(rec.Mission), MaxMissionLength)
	}
	if rec.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}
