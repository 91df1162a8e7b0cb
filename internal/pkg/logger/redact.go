package logger

// RedactKey masks an API key for safe logging.
// "pk_abc123def456" → "pk_a***"
// Keys of 4 characters or fewer are fully masked.
func RedactKey(key string) string {
	if len(key) <= 4 {
		return "***"
	}
	return key[:4] + "***"
}
