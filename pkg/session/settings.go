package session

// Settings are the session-global behavior toggles synced to the agent with
// UpdateGlobalSettings.
type Settings struct {
	// PauseOnLaunch keeps newly launched processes stopped on their initial
	// thread instead of resuming them after module load.
	PauseOnLaunch bool
	// PauseOnAttach keeps processes stopped after attach.
	PauseOnAttach bool
	// QuitAgentOnExit asks the agent to exit when this client disconnects.
	QuitAgentOnExit bool
}
