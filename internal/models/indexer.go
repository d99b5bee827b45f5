package models

// ChainTransaction is an inbound transfer as reported by the indexer.
// Values are untrusted; nothing here is verified cryptographically.
type ChainTransaction struct {
	Hash      string
	Lt        uint64
	Utime     int64
	Sender    string
	Recipient string
	ValueNano int64
	FeeNano   int64
	Comment   string
}
