package auth

import "errors"

var ErrUnauthenticated = errors.New("unauthenticated")

// Require fails closed: anything but a resolved, active identity is rejected.
func Require(identity Identity, ok bool) (Identity, error) {
	if !ok || identity.Username == "" || !identity.IsActive {
		return Identity{}, ErrUnauthenticated
	}
	return identity, nil
}
