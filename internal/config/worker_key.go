package config

type WorkerKeyStruct struct {
	PersistResponsesQueue string
	PersistProctorQueue   string
	RecomputeRiskQueue    string
}

var WorkerKey = &WorkerKeyStruct{
	PersistResponsesQueue: "persist_responses_queue",
	PersistProctorQueue:   "persist_proctor_queue",
	RecomputeRiskQueue:    "recompute_risk_queue",
}
