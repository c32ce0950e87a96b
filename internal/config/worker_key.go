package config

type WorkerKeyStruct struct {
	PersistAnswersQueue  string
	RegradeAttemptsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue:  "persist_answers_queue",
	RegradeAttemptsQueue: "regrade_attempts_queue",
}
