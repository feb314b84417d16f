package monitor

const (
	AlertLowBalance                 = "LOW_BALANCE"
	AlertZeroBalance                = "ZERO_BALANCE"
	AlertBalanceCheckFailed         = "BALANCE_CHECK_FAILED"
	AlertHighWithdrawalRate         = "HIGH_WITHDRAWAL_RATE"
	AlertSuspiciousActivity         = "SUSPICIOUS_ACTIVITY"
	AlertHighFailureRate            = "HIGH_FAILURE_RATE"
	AlertDepositConfirmationTimeout = "DEPOSIT_CONFIRMATION_TIMEOUT"
	AlertIntegrityViolation         = "INTEGRITY_VIOLATION"
	AlertHealthCheckFailed          = "HEALTH_CHECK_FAILED"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Subjects for alerts that are not about one account.
const (
	SubjectPlatform    = "platform"
	SubjectHouseWallet = "house_wallet"
)

var alertSeverity = map[string]string{
	AlertLowBalance:                 SeverityHigh,
	AlertZeroBalance:                SeverityCritical,
	AlertBalanceCheckFailed:         SeverityMedium,
	AlertHighWithdrawalRate:         SeverityHigh,
	AlertSuspiciousActivity:         SeverityMedium,
	AlertHighFailureRate:            SeverityHigh,
	AlertDepositConfirmationTimeout: SeverityMedium,
	AlertIntegrityViolation:         SeverityCritical,
	AlertHealthCheckFailed:          SeverityCritical,
}

// SeverityOf ranks unknown alert types low.
func SeverityOf(alertType string) string {
	if s, ok := alertSeverity[alertType]; ok {
		return s
	}
	return SeverityLow
}

func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

func IsCritical(alertType string) bool {
	return SeverityOf(alertType) == SeverityCritical
}
