package shared

import "fmt"

// RunLockKey builds the redis key guarding the single active run allowed
// per (root entity, fiscal period).
func RunLockKey(rootEntityID int64, period string) string {
	return fmt.Sprintf("consol:run:%d:%s:lock", rootEntityID, period)
}
