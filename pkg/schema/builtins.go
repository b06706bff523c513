package schema

// Names of the built-in steps, in their normalized (lower-case) form.
const (
	StepDelay       = "controlflow.delay"
	StepIf          = "controlflow.ifcondition"
	StepForLoop     = "controlflow.forloop"
	StepParallel    = "controlflow.parallel"
	StepSetVariable = "setvariable"
	StepCalculate   = "variable.calculate"
	StepTransform   = "variable.transform"
	StepSendMessage = "targetbehaviour.sendmessage"
)

// Parameter names that hold nested step blocks.
const (
	BlockThen     = "Then"
	BlockElse     = "Else"
	BlockDo       = "Do"
	BlockBranches = "Branches"
)
