package mpesa

// Item represents a key-value pair from M-Pesa callback metadata
type Item struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// CallbackPayload represents the asynchronous notification Safaricom
// POSTs to the callback URL once a push reaches a terminal outcome.
// CallbackMetadata is present only on success.
type CallbackPayload struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string     `json:"MerchantRequestID"`
			CheckoutRequestID string     `json:"CheckoutRequestID"`
			ResultCode        ResultCode `json:"ResultCode"`
			ResultDesc        string     `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []Item `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// Metadata names Safaricom uses in successful callbacks.
const (
	MetadataReceiptNumber   = "MpesaReceiptNumber"
	MetadataAmount          = "Amount"
	MetadataPhoneNumber     = "PhoneNumber"
	MetadataTransactionDate = "TransactionDate"
)

// ParseCallbackMetadata converts M-Pesa's metadata array to a clean map
// Input example: [{"Name": "Amount", "Value": 100}, {"Name": "MpesaReceiptNumber", "Value": "ABC123"}]
// Output: {"Amount": 100, "MpesaReceiptNumber": "ABC123"}
func ParseCallbackMetadata(items []Item) map[string]interface{} {
	result := make(map[string]interface{}, len(items))
	for _, item := range items {
		if item.Name != "" {
			result[item.Name] = item.Value
		}
	}
	return result
}

// CallbackAck is the acknowledgement body Safaricom expects. It is
// returned for every callback, including ones we could not process,
// so the provider does not redeliver indefinitely.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// AckSuccess is the fixed success-shaped acknowledgement.
var AckSuccess = CallbackAck{ResultCode: 0, ResultDesc: "Success"}
