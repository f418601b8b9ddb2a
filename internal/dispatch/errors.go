package dispatch

import "fmt"

func errUnknownAccount(account string) error {
	return fmt.Errorf("unknown account %q", account)
}
