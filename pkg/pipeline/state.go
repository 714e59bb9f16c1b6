package pipeline

// State is one step of a pipeline run.
type State string

const (
	StateInit            State = "init"
	StateStage           State = "stage"
	StateSign            State = "sign"
	StatePack            State = "pack"
	StateOptimize        State = "optimize"
	StateMerge           State = "merge"
	StateUnzip           State = "unzip"
	StatePublishMetadata State = "publish-metadata"
	StatePostProcess     State = "post-process"
	StateVerify          State = "verify"
	StateRezip           State = "rezip"
	StateChecksum        State = "checksum"
	StateStaged          State = "staged"
	StateDeploy          State = "deploy"
	StatePrune           State = "prune"
	StateDeployed        State = "deployed"
	StateCleanup         State = "cleanup"
	StateFailed          State = "failed"
)

// StageError reports the state a run failed in.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string {
	return string(e.State) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
