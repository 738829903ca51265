package domain

// TTSOption is a selectable engine/voice pair.
type TTSOption struct {
	Engine string
	Voice  string
}

func (o TTSOption) String() string {
	return o.Engine + ":" + o.Voice
}
