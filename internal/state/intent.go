package state

import "tasklist/internal/todo"

// Intent is a user request handed to Controller.Dispatch.
type Intent interface {
	intentName() string
}

type AddItem struct {
	Title string
}

type ToggleItem struct {
	ID string
}

type DeleteItem struct {
	ID string
}

type SetFilter struct {
	Filter todo.Filter
}

type RenameItem struct {
	ID    string
	Title string
}

type DeleteAllItems struct{}

// ClearError dismisses the current error message.
type ClearError struct{}

func (AddItem) intentName() string        { return "add" }
func (ToggleItem) intentName() string     { return "toggle" }
func (DeleteItem) intentName() string     { return "delete" }
func (SetFilter) intentName() string      { return "filter" }
func (RenameItem) intentName() string     { return "rename" }
func (DeleteAllItems) intentName() string { return "clear" }
func (ClearError) intentName() string     { return "dismiss" }
