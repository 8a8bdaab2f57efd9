package supervisor

// Client is the control surface used by the UI and the CLI
type Client interface {
	Status() []*Process
	Start(name string) error
	Stop(name string) error
	Restart(name string) error
	Logs(name string) (*LogBuffer, error)
}

var _ Client = (*Manager)(nil)
