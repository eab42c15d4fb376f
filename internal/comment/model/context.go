package model

type ContextType string

const (
	ContextDocument ContextType = "document"
	ContextTask     ContextType = "task"
)

func (t ContextType) Valid() bool {
	return t == ContextDocument || t == ContextTask
}

// ContextRef identifies the document or task a local thread is attached to.
type ContextRef struct {
	Type ContextType
	ID   string
}

func (r ContextRef) String() string {
	return string(r.Type) + ":" + r.ID
}
