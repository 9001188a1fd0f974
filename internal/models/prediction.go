package models

// MLEntry is a labeled or predicted CP/PE pair for one slot as stored on a day.
// Nil values are undefined and never used for training.
type MLEntry struct {
	TimeSlot    string   `json:"time_slot"`
	PredictedCP *float64 `json:"predicted_CP,omitempty"`
	PredictedPE *float64 `json:"predicted_PE,omitempty"`
}

// Prediction is the forecast for one slot of the following day
type Prediction struct {
	TimeSlot string  `json:"time_slot"`
	CP       float64 `json:"CP"` // cognitive performance, 0..1
	PE       float64 `json:"PE"` // physical energy, 0..1
}

// Entry converts a prediction into the representation stored on a day
func (p Prediction) Entry() MLEntry {
	return MLEntry{
		TimeSlot:    p.TimeSlot,
		PredictedCP: Float(p.CP),
		PredictedPE: Float(p.PE),
	}
}
