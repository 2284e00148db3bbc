package llm

import "strings"

// The OpenAI family identifies a tool call by two ids: the call id used
// in function_call_output items and the output item id. The uniform model
// keeps them joined so everything outside the OpenAI adapter treats tool
// call ids as opaque.

const callIDSeparator = "|"

// JoinCallID builds the composite id carried in the uniform model.
func JoinCallID(callID, itemID string) string {
	if itemID == "" {
		return callID
	}
	return callID + callIDSeparator + itemID
}

// SplitCallID splits a composite id back into (callId, itemId). Ids
// without a separator return an empty itemId.
func SplitCallID(id string) (callID, itemID string) {
	callID, itemID, _ = strings.Cut(id, callIDSeparator)
	return callID, itemID
}
