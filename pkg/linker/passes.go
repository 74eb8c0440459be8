package linker

// Link runs the whole pipeline over the inputs already registered on the
// context and returns the output executable or shared library.
func Link(ctx *Context) (*Object, error) {
	SelectArchiveMembers(ctx)
	ComputeLayout(ctx)

	if err := ResolveSymbols(ctx); err != nil {
		return nil, err
	}
	if err := ApplyRelocations(ctx); err != nil {
		return nil, err
	}
	EmitPltStubs(ctx)

	return BuildOutput(ctx), nil
}
