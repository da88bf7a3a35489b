package x_test

import (
	"fmt"
	"net/http"

	"github.com/4dn-dcic/snovault-sub000/x"
)

func ExampleUniqueString() {
	u := x.UniqueString(3)
	fmt.Println(len(u))
	// Output: 3
}

func ExampleParseIdFromUrl() {
	r, err := http.NewRequest("GET", "https://localhost/objects/uid_12345", nil)
	if err != nil {
		panic(err)
	}
	uid, ok := x.ParseIdFromUrl(r, "/objects/")
	if !ok {
		panic("Unable to parse uid")
	}
	fmt.Println(uid)

	r, err = http.NewRequest("GET", "https://localhost/objects/uid_12345/", nil)
	if err != nil {
		panic(err)
	}
	uid, ok = x.ParseIdFromUrl(r, "/objects/")
	if !ok {
		panic("Unable to parse uid")
	}
	fmt.Println(uid)

	// Output:
	// uid_12345
	// uid_12345/
}

func ExampleValidUUID() {
	fmt.Println(x.ValidUUID(x.NewUUID()))
	fmt.Println(x.ValidUUID("not-a-uuid"))
	// Output:
	// true
	// false
}
