package dynamo

// DynamoDB attribute names of the accounts table.
const (
	attrAccountID = "account_id"
	attrEmail     = "email"
	attrStatus    = "status"
	attrUpdatedAt = "updated_at"

	accountIDIndex = "account_id-index"
)
