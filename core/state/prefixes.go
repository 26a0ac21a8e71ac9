package state

var (
	listingPrefix   = []byte("market/listing/")
	currencyListKey = []byte("market/currencies")
	feeConfigKey    = []byte("market/fees")
	accountPrefix   = []byte("account/")
)
