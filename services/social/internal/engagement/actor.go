package engagement

// Actor is the optional identity behind a read. The zero value is anonymous.
type Actor struct {
	id string
	ok bool
}

// ActorOf returns an identified actor, or an anonymous one for an empty id.
func ActorOf(id string) Actor {
	if id == "" {
		return Actor{}
	}
	return Actor{id: id, ok: true}
}

func Anonymous() Actor { return Actor{} }

func (a Actor) ID() (string, bool) { return a.id, a.ok }
