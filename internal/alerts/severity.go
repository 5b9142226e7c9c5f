package alerts

import "github.com/zdex/evcpms/internal/models"

const (
	NoErrorCode   = "NoError"
	FaultedStatus = "Faulted"
)

// Classify derives severity from the alert type and, for status errors, the
// connector status that accompanied the error code.
func Classify(alertType models.AlertType, connectorStatus string) models.Severity {
	switch alertType {
	case models.AlertFault:
		return models.SeverityCritical
	case models.AlertError:
		if connectorStatus == FaultedStatus {
			return models.SeverityCritical
		}
		return models.SeverityWarning
	case models.AlertDisconnection, models.AlertBootRejected, models.AlertTransactionError:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// IsError reports whether a status error code should raise an alert.
func IsError(errorCode string) bool {
	return errorCode != "" && errorCode != NoErrorCode
}
