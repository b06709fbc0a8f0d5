package gmail

// sendRequest is the request body for the messages.send endpoint.
type sendRequest struct {
	Raw string `json:"raw"`
}

// sentMessage is the subset of a Gmail message resource the transport reads.
type sentMessage struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"threadId"`
	HistoryID string          `json:"historyId"`
	LabelIDs  []string        `json:"labelIds,omitempty"`
	Payload   *messagePayload `json:"payload,omitempty"`
}

type messagePayload struct {
	Headers []messageHeader `json:"headers"`
}

type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// apiErrorResponse is the Google API error envelope.
type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Status  string          `json:"status"`
	Errors  []apiErrorEntry `json:"errors"`
}

type apiErrorEntry struct {
	Domain  string `json:"domain"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
