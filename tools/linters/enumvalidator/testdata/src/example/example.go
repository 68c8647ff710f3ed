package example

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
)

type RunTrigger string

const (
	RunTriggerInterval RunTrigger = "interval"
	RunTriggerManual   RunTrigger = "manual"
)

type IssueState string

const (
	IssueStateOpened IssueState = "opened"
	IssueStateClosed IssueState = "closed"
)

type SyncRun struct {
	Status  RunStatus
	Trigger RunTrigger
}

type Issue struct {
	State IssueState
}

func bad() {
	run := &SyncRun{}
	run.Status = "done" // want "enum field Status assigned string literal"

	issue := &Issue{}
	issue.State = "open" // want "enum field State assigned string literal"
}

func good() {
	run := &SyncRun{}
	run.Status = RunStatusSuccess // OK: using constant

	issue := &Issue{}
	issue.State = IssueStateClosed // OK: using constant
}

func alsoGood() {
	// OK: Variable, not literal
	trigger := RunTriggerManual
	run := &SyncRun{Trigger: trigger}
	_ = run
}
