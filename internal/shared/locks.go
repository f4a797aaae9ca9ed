package shared

import "fmt"

// LedgerLockKey builds redis keys guarding one (branch, item) ledger row.
func LedgerLockKey(branchID, itemID int64) string {
	return fmt.Sprintf("stock:ledger:%d:%d:lock", branchID, itemID)
}

// DocumentLockKey builds redis keys guarding a transfer or adjustment document.
func DocumentLockKey(kind string, id int64) string {
	return fmt.Sprintf("stock:%s:%d:lock", kind, id)
}
