package config

type WorkerKeyStruct struct {
	PersistProgressQueue string
	PersistEventsQueue   string
	PersistAuditQueue    string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProgressQueue: "persist_progress_queue",
	PersistEventsQueue:   "persist_events_queue",
	PersistAuditQueue:    "persist_audit_queue",
}
