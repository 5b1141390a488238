package enums

import "fmt"

// ExportJobStatus maps to the export_job_status_enum enum in Postgres.
type ExportJobStatus string

const (
	ExportJobStatusPending    ExportJobStatus = "PENDING"
	ExportJobStatusInProgress ExportJobStatus = "IN_PROGRESS"
	ExportJobStatusSuccess    ExportJobStatus = "SUCCESS"
	ExportJobStatusFailed     ExportJobStatus = "FAILED"
)

var validExportJobStatuses = []ExportJobStatus{
	ExportJobStatusPending,
	ExportJobStatusInProgress,
	ExportJobStatusSuccess,
	ExportJobStatusFailed,
}

// IsValid reports whether the value matches the canonical export job statuses.
func (s ExportJobStatus) IsValid() bool {
	for _, candidate := range validExportJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseExportJobStatus converts raw input into ExportJobStatus.
func ParseExportJobStatus(value string) (ExportJobStatus, error) {
	for _, candidate := range validExportJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid export job status %q", value)
}
