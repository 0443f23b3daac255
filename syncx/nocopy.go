package syncx

// noCopy may be embedded into a struct to trip `go vet`'s copylocks check.
// See https://golang.org/issues/8005#issuecomment-190753527 for details.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
