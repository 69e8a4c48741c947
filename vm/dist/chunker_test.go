package dist

import (
	"reflect"
	"testing"

	"github.com/chazu/rvm/vm"
)

func TestCodeToChunk(t *testing.T) {
	c, err := CodeToChunk(sampleCode())
	if err != nil {
		t.Fatal(err)
	}
	if c.Version != WireVersion {
		t.Errorf("Version = %d", c.Version)
	}
	h, err := HashImage(&c.Code)
	if err != nil {
		t.Fatal(err)
	}
	if c.Hash != h {
		t.Error("Hash should be the hash of the image")
	}
	if want := []string{"add", "print"}; !reflect.DeepEqual(c.Requires, want) {
		t.Errorf("Requires = %v, want %v", c.Requires, want)
	}
	if m := c.Manifest(); m == nil || len(m.Required) != 2 {
		t.Errorf("Manifest = %v", m)
	}
}

func TestManifestEmpty(t *testing.T) {
	b := vm.NewCodeBuilder("<module>")
	b.Emit(vm.OpLoadConst, b.AddConst(vm.None))
	b.Emit(vm.OpReturnValue, 0)
	c, err := CodeToChunk(b.MustBuild())
	if err != nil {
		t.Fatal(err)
	}
	if c.Manifest() != nil {
		t.Error("code with no globals needs no manifest")
	}
}

func TestNestedCode(t *testing.T) {
	leaf := vm.NewCodeBuilder("leaf")
	leaf.Emit(vm.OpLoadGlobal, leaf.AddName("deep"))
	leaf.Emit(vm.OpReturnValue, 0)
	leafCode := leaf.MustBuild()

	mid := vm.NewCodeBuilder("mid")
	mid.Emit(vm.OpLoadConst, mid.AddConst(leafCode))
	mid.Emit(vm.OpReturnValue, 0)
	midCode := mid.MustBuild()

	root := vm.NewCodeBuilder("root")
	root.Emit(vm.OpLoadConst, root.AddConst(midCode))
	root.Emit(vm.OpLoadConst, root.AddConst(leafCode))
	root.EmitReg(vm.OpLoadGlobalReg, 0, 0, 0, root.AddName("reg"))
	root.Emit(vm.OpBuildTuple, 2)
	root.Emit(vm.OpReturnValue, 0)
	rootCode := root.MustBuild()

	all := NestedCode(rootCode)
	if len(all) != 3 {
		t.Fatalf("NestedCode = %d units, want 3 (shared leaf visited once)", len(all))
	}
	if all[0] != rootCode || all[1] != midCode || all[2] != leafCode {
		t.Errorf("order = %v", all)
	}

	names, err := RequiredNames(rootCode)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"deep", "reg"}; !reflect.DeepEqual(names, want) {
		t.Errorf("RequiredNames = %v, want %v", names, want)
	}
}

func TestConstKinds(t *testing.T) {
	tests := []struct {
		v    vm.Value
		kind ConstKind
	}{
		{vm.None, ConstNone},
		{false, ConstBool},
		{int64(-3), ConstInt},
		{2.5, ConstFloat},
		{"s", ConstString},
		{vm.KeywordNames{"a", "b"}, ConstKeywords},
		{vm.KindStopIteration, ConstExceptionKind},
	}
	for _, tt := range tests {
		k, err := constFromValue(tt.v)
		if err != nil {
			t.Errorf("%v: %v", tt.v, err)
			continue
		}
		if k.Kind != tt.kind {
			t.Errorf("%v: kind = %d, want %d", tt.v, k.Kind, tt.kind)
		}
		back, err := valueFromConst(k)
		if err != nil {
			t.Errorf("%v: %v", tt.v, err)
			continue
		}
		if !reflect.DeepEqual(back, tt.v) {
			t.Errorf("%v came back as %v", tt.v, back)
		}
	}

	if _, err := valueFromConst(Const{Kind: ConstExceptionKind, Str: "NoSuchError"}); err == nil {
		t.Error("unknown exception kind should fail")
	}
	if _, err := valueFromConst(Const{Kind: 99}); err == nil {
		t.Error("unknown kind should fail")
	}
}
