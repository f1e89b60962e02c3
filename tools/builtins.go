package tools

func init() {
	MustRegisterTool("calculate", "Evaluate arithmetic expressions.", NewCalculator)
	MustRegisterTool("json_query", "Parse and query JSON documents.", NewJSONQuery)
	MustRegisterTool("clock", "Read the current time.", NewClock)

	if err := RegisterBundle("core", "Small side-effect-free utilities.", []string{
		"calculate", "json_query", "clock",
	}); err != nil {
		panic(err)
	}
}
