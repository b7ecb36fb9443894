package authorizenet

type createTransactionEnvelope struct {
	Request createTransactionRequest `json:"createTransactionRequest"`
}

type createTransactionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	TransactionRequest     transactionRequest     `json:"transactionRequest"`
}

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type transactionRequest struct {
	TransactionType string  `json:"transactionType"`
	Amount          string  `json:"amount"`
	Payment         payment `json:"payment"`
}

type payment struct {
	OpaqueData opaqueData `json:"opaqueData"`
}

type opaqueData struct {
	DataDescriptor string `json:"dataDescriptor"`
	DataValue      string `json:"dataValue"`
}

type createTransactionResponse struct {
	TransactionResponse *transactionResponse `json:"transactionResponse"`
	Messages            apiMessages          `json:"messages"`
}

type transactionResponse struct {
	ResponseCode string `json:"responseCode"`
	AuthCode     string `json:"authCode"`
	TransID      string `json:"transId"`
	Messages     []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"messages"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		ErrorText string `json:"errorText"`
	} `json:"errors"`
}

type apiMessages struct {
	ResultCode string `json:"resultCode"`
	Message    []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"message"`
}
