package shared

import (
	"fmt"
	"time"
)

// CashCloseLockKey builds the redis key guarding a cash-closing critical section.
func CashCloseLockKey(day time.Time) string {
	return fmt.Sprintf("cashbook:close:%s:lock", day.Format("2006-01-02"))
}
