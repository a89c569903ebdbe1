package must

func NilErr(err error) {
	if nil != err {
		panic("expected nil error, got: " + err.Error())
	}
}
