package shared

// LockNamespace partitions advisory lock keys per aggregate type.
type LockNamespace int32

const (
	// LockInvoices serialises invoice generation per project.
	LockInvoices LockNamespace = 4101
	// LockSubcontractBills serialises bill creation per subcontract.
	LockSubcontractBills LockNamespace = 4102
)

// AdvisoryLockKey packs a namespace and an aggregate id into the single
// bigint accepted by pg_advisory_xact_lock. Only the low 32 bits of id are kept.
func AdvisoryLockKey(ns LockNamespace, id int64) int64 {
	return int64(ns)<<32 | (id & 0xFFFFFFFF)
}
