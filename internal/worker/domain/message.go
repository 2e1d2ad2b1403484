package domain

// JobMessage is a decoded delivery handed to the worker pool
type JobMessage struct {
	JobID       string
	DeliveryTag uint64
	Redelivered bool
}
