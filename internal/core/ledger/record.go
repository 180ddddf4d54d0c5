package ledger

import "time"

// RecordKind tags what a journal entry represents.
type RecordKind string

const (
	KindTransfer            RecordKind = "transfer"
	KindBurn                RecordKind = "burn"
	KindMint                RecordKind = "mint"
	KindFee                 RecordKind = "fee"
	KindReservationHold     RecordKind = "reservation_hold"
	KindReservationFinalize RecordKind = "reservation_finalize"
	KindReservationCancel   RecordKind = "reservation_cancel"
)

// TxRecord is one entry of the append-only transaction journal. From
// is empty for genesis mints.
type TxRecord struct {
	Seq       uint64     `json:"seq"`
	Kind      RecordKind `json:"kind"`
	From      Address    `json:"from,omitempty"`
	To        Address    `json:"to"`
	Amount    uint64     `json:"amount"`
	Fee       uint64     `json:"fee,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Memo      string     `json:"memo,omitempty"`
}

// journal is the in-memory record log. The ledger serializes access
// and owns the unwind of failed durable writes.
type journal struct {
	records []TxRecord
}

func (j *journal) append(rec TxRecord) {
	j.records = append(j.records, rec)
}

func (j *journal) len() int { return len(j.records) }

// recentByAccount scans backwards for records touching addr, newest
// first, up to limit.
func (j *journal) recentByAccount(addr Address, limit int) []TxRecord {
	if limit <= 0 {
		return nil
	}
	var out []TxRecord
	for i := len(j.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := j.records[i]
		if rec.From == addr || rec.To == addr {
			out = append(out, rec)
		}
	}
	return out
}
