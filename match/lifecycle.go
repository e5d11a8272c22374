package match

type Role string

const (
	RoleWorker Role = "worker"
	RolePoster Role = "poster"
)

type actors int

const (
	eitherParty actors = iota
	progressActors
)

// lifecycle is the allowed-transition table. completed and cancelled have no
// entries and are therefore absorbing.
var lifecycle = map[Status]map[Status]actors{
	StatusPending: {
		StatusAccepted:  eitherParty,
		StatusCancelled: eitherParty,
	},
	StatusAccepted: {
		StatusInProgress: progressActors,
		StatusCancelled:  eitherParty,
	},
	StatusInProgress: {
		StatusCompleted: progressActors,
		StatusCancelled: eitherParty,
	},
}

// Policy decides who may drive a match forward once it is accepted.
type Policy struct {
	// PosterMayProgress lets the poster start and complete work as well as
	// the worker.
	PosterMayProgress bool
}

// DefaultPolicy restricts start and completion to the worker.
var DefaultPolicy = Policy{}

// Allowed reports whether role may move a match from one status to another.
func (p Policy) Allowed(from, to Status, role Role) bool {
	who, ok := lifecycle[from][to]
	if !ok {
		return false
	}
	switch who {
	case eitherParty:
		return role == RoleWorker || role == RolePoster
	case progressActors:
		return role == RoleWorker || (p.PosterMayProgress && role == RolePoster)
	}
	return false
}
