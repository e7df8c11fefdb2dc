package models

type Identifier interface {
	GetId() int
}

// interface for dataloader result
type Data interface {
	Identifier
	EntityName() string
}

func (d Direction) GetId() int {
	return d.ID
}

func (d Direction) EntityName() string {
	return "direction"
}

func (p SupportProcess) GetId() int {
	return p.ID
}

func (p SupportProcess) EntityName() string {
	return "support process"
}

func (u User) GetId() int {
	return u.ID
}

func (u User) EntityName() string {
	return "user"
}
