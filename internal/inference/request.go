package inference

const (
	DefaultMaxTokens     = 256
	DefaultTemperature   = 0.7
	DefaultTopP          = 0.9
	DefaultRepeatPenalty = 1.1
)

// RequestOptions is a request as it arrives from a CLI or HTTP surface,
// with nil meaning "not given".
type RequestOptions struct {
	Prompt       string
	SystemPrompt string

	MaxTokens     *int
	Temperature   *float64
	TopP          *float64
	RepeatPenalty *float64
	Seed          *int64

	OnFragment FragmentFunc
}

// GenDefaults are operator-level defaults, usually from the config file.
type GenDefaults struct {
	MaxTokens     *int
	Temperature   *float64
	TopP          *float64
	RepeatPenalty *float64
	SystemPrompt  *string
}

func ResolveRequest(opts RequestOptions, defaults GenDefaults) Request {
	req := Request{
		Prompt:        opts.Prompt,
		SystemPrompt:  opts.SystemPrompt,
		MaxTokens:     DefaultMaxTokens,
		Temperature:   DefaultTemperature,
		TopP:          DefaultTopP,
		RepeatPenalty: DefaultRepeatPenalty,
		OnFragment:    opts.OnFragment,
	}

	if defaults.MaxTokens != nil && *defaults.MaxTokens > 0 {
		req.MaxTokens = *defaults.MaxTokens
	}
	if defaults.Temperature != nil && *defaults.Temperature > 0 {
		req.Temperature = *defaults.Temperature
	}
	if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP <= 1 {
		req.TopP = *defaults.TopP
	}
	if defaults.RepeatPenalty != nil && *defaults.RepeatPenalty > 0 {
		req.RepeatPenalty = *defaults.RepeatPenalty
	}
	if req.SystemPrompt == "" && defaults.SystemPrompt != nil {
		req.SystemPrompt = *defaults.SystemPrompt
	}

	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		req.TopP = *opts.TopP
	}
	if opts.RepeatPenalty != nil {
		req.RepeatPenalty = *opts.RepeatPenalty
	}
	if opts.Seed != nil {
		req.Seed = *opts.Seed
	}

	return normalizeRequest(req)
}

// normalizeRequest replaces non-positive generation parameters with the
// engine defaults.
func normalizeRequest(req Request) Request {
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.Temperature <= 0 {
		req.Temperature = DefaultTemperature
	}
	if req.TopP <= 0 {
		req.TopP = DefaultTopP
	}
	if req.RepeatPenalty <= 0 {
		req.RepeatPenalty = DefaultRepeatPenalty
	}
	return req
}

func (r Request) samplingParams() SamplingParams {
	return SamplingParams{
		Temperature:   float32(r.Temperature),
		TopP:          float32(r.TopP),
		RepeatPenalty: float32(r.RepeatPenalty),
		Seed:          r.Seed,
	}
}
