package foundry

var (
	DefaultAPIHosts = []string{"localhost", "127.0.0.1", "0.0.0.0"}
	DefaultAPIPorts = []int{5273, 1234}
)

const (
	RPCTimeoutSec           = 30
	SystemNamespace         = "system"
	LLMNamespace            = "llm"
	ListDownloadedEndpoint  = "listDownloadedModels" // cached models
	ListCatalogEndpoint     = "listCatalogModels"    // models the service can fetch
	ListLoadedEndpoint      = "listLoaded"
	DownloadModelEndpoint   = "downloadModel" // channel
	LoadModelEndpoint       = "loadModel"     // channel
	UnloadModelEndpoint     = "unloadModel"
	PredictEndpoint         = "predict" // channel
	CompletionAPIPath       = "/v1"
	MaxConnectionRetries    = 3
	ConnectionRetryDelaySec = 2
	AuthVersion             = 1
	channelBufferSize       = 256
)
