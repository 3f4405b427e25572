package daemon

const (
	homeFlag        = "home"
	forceFlag       = "force"
	apiListenerFlag = "api-listener"
)
