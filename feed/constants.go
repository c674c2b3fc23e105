package feed

// Message flags. A target receives a message when its mask contains
// every bit of the message flag.
const (
	FlagPosition = 1
	FlagWarning  = 2
	FlagSummary  = 4
	FlagRssi     = 8

	FlagAll = FlagPosition | FlagWarning | FlagSummary | FlagRssi
)
