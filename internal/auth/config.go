package auth

import (
	"fmt"
	"strings"
)

type Keyring struct {
	AllowLocalhostWithoutAuth bool
	keyToOperator             map[string]string
}

// ParseKeys reads "operator:key" pairs separated by commas, the format of
// GUIDPATCH_API_KEYS. An empty list yields a keyring that only admits
// loopback callers when allowLocalhost is set.
func ParseKeys(list string, allowLocalhost bool) (*Keyring, error) {
	ring := &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keyToOperator: make(map[string]string)}
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		operator, key, ok := strings.Cut(pair, ":")
		operator, key = strings.TrimSpace(operator), strings.TrimSpace(key)
		if !ok || operator == "" || key == "" {
			return nil, fmt.Errorf("api key entry %q: want operator:key", pair)
		}
		if existing, ok := ring.keyToOperator[key]; ok && existing != operator {
			return nil, fmt.Errorf("key reused across operators: %q", operator)
		}
		ring.keyToOperator[key] = operator
	}
	return ring, nil
}

func defaultKeyring() *Keyring {
	return &Keyring{AllowLocalhostWithoutAuth: true, keyToOperator: make(map[string]string)}
}

func NewKeyring(allowLocalhost bool, keyToOperator map[string]string) *Keyring {
	clone := make(map[string]string, len(keyToOperator))
	for k, v := range keyToOperator {
		clone[k] = v
	}
	return &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keyToOperator: clone}
}

func (k *Keyring) OperatorForKey(key string) (string, bool) {
	if k == nil {
		return "", false
	}
	operator, ok := k.keyToOperator[key]
	return operator, ok
}

// Len returns the number of configured keys.
func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.keyToOperator)
}
