package streamer

import "sync"

// accounts tracks which account ids hold a live connection in this process.
var accounts = struct {
	sync.Mutex
	active map[string]string
}{active: map[string]string{}}

func claimAccount(accountID, connectionID string) bool {
	accounts.Lock()
	defer accounts.Unlock()
	if _, ok := accounts.active[accountID]; ok {
		return false
	}
	accounts.active[accountID] = connectionID
	return true
}

func releaseAccount(accountID, connectionID string) {
	accounts.Lock()
	defer accounts.Unlock()
	if accounts.active[accountID] == connectionID {
		delete(accounts.active, accountID)
	}
}

// AccountInUse reports whether accountID currently holds a connection.
func AccountInUse(accountID string) bool {
	accounts.Lock()
	defer accounts.Unlock()
	_, ok := accounts.active[accountID]
	return ok
}
