// Package canopy classifies text into a hierarchy of classes with a trained
// model.
//
// Quick start:
//
//	c, err := canopy.Open("models/canopy.json", canopy.WithLabels("labels.json"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	p, _ := c.Classify("The striker scored a late goal.")
//	fmt.Println(p.Label) // sports.football
//
// A Canopy is safe for concurrent use; calls are serialized internally.
package canopy
