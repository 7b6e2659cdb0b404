package context

type Key string

const (
	Claims Key = "claims"
	Caller Key = "caller"
	Params Key = "params"
)
