// Package testserver is an in-memory petstore API used as upstream in tests.
package testserver

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

const documentServerURL = "http://localhost:3000"

//go:embed testdata/petstore.yaml
var document []byte

// Document returns the petstore document with its server pointing at baseURL.
func Document(baseURL string) []byte {
	return bytes.ReplaceAll(document, []byte(documentServerURL), []byte(baseURL))
}

type Pet struct {
	Id     int    `json:"id"`
	Name   string `json:"name"`
	Tag    string `json:"tag,omitempty"`
	Status string `json:"status,omitempty"`
}

func defaultPets() []Pet {
	return []Pet{
		{Id: 1, Name: "cat", Tag: "cute", Status: "available"},
		{Id: 2, Name: "dog", Tag: "gentle", Status: "sold"},
		{Id: 3, Name: "dog2", Tag: "dangerous", Status: "available"},
		{Id: 4, Name: "wolf", Tag: "dangerous"},
	}
}

// Server serves the petstore API and, under /openapi.yaml, its own document.
type Server struct {
	engine *gin.Engine

	mu            sync.Mutex
	pets          []Pet
	nextId        int
	schemaHeaders http.Header
	schemaHits    int
}

func New() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		engine: gin.New(),
		pets:   defaultPets(),
		nextId: 5,
	}

	router := s.engine
	router.GET("/openapi.yaml", s.documentHandler)
	router.POST("/breeds", getBreedsHandler)
	router.GET("/no-response-schema", noResponseSchemaHandler)
	router.GET("/pets", s.getPetsHandler)
	router.POST("/pets", s.addPetHandler)
	router.GET("/pets/:id", s.getPetByIdHandler)
	router.PUT("/pets/:id", s.updatePetByIdHandler)
	router.DELETE("/pets/:id", s.deletePetByIdHandler)
	router.GET("/nested-reference-in-parameter", nestedReferenceInParameterHandler)
	router.GET("/echo/:segment", echoHandler)
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// SchemaRequests returns how often the document was served and the headers
// of the last request for it.
func (s *Server) SchemaRequests() (int, http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemaHits, s.schemaHeaders.Clone()
}

func (s *Server) documentHandler(c *gin.Context) {
	s.mu.Lock()
	s.schemaHits++
	s.schemaHeaders = c.Request.Header.Clone()
	s.mu.Unlock()

	c.Data(http.StatusOK, "application/yaml", Document("http://"+c.Request.Host))
}

func nestedReferenceInParameterHandler(c *gin.Context) {
	names := make([]string, 0)
	for key, values := range c.Request.URL.Query() {
		if strings.HasPrefix(key, "russianDoll[") {
			names = append(names, values...)
		}
	}
	sort.Strings(names)
	c.String(http.StatusOK, strings.Join(names, ","))
}

func getBreedsHandler(c *gin.Context) {
	var body struct {
		CatBreed bool `json:"catBreed"`
		DogBreed bool `json:"dogBreed"`
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Can't decode body"})
		return
	}

	if body.CatBreed {
		c.JSON(http.StatusOK, gin.H{"catBreed": "Sphynx"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dogBreed": "Labrador"})
}

func noResponseSchemaHandler(c *gin.Context) {
	data := struct {
		Name      string  `json:"name"`
		Branch    string  `json:"branch"`
		Language  string  `json:"language"`
		Particles int     `json:"particles"`
		Float     float32 `json:"float"`
	}{
		Name:      "Pikachu",
		Branch:    "ECE",
		Language:  "C++",
		Particles: 498,
		Float:     10.5,
	}

	c.JSON(http.StatusOK, data)
}

func echoHandler(c *gin.Context) {
	query := gin.H{}
	for key, values := range c.Request.URL.Query() {
		query[key] = strings.Join(values, ",")
	}
	headers := gin.H{}
	for key := range c.Request.Header {
		headers[key] = c.Request.Header.Get(key)
	}
	c.JSON(http.StatusOK, gin.H{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"query":   query,
		"headers": headers,
	})
}

func petId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Id must be an integer"})
		return 0, false
	}
	return id, true
}

func (s *Server) findPet(id int) int {
	for i, pet := range s.pets {
		if pet.Id == id {
			return i
		}
	}
	return -1
}

func (s *Server) addPetHandler(c *gin.Context) {
	var pData Pet
	if err := json.NewDecoder(c.Request.Body).Decode(&pData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Can't decode body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pet := Pet{
		Id:   s.nextId,
		Name: pData.Name,
		Tag:  pData.Tag,
	}
	s.nextId++
	s.pets = append(s.pets, pet)

	c.JSON(http.StatusOK, pet)
}

func (s *Server) updatePetByIdHandler(c *gin.Context) {
	id, ok := petId(c)
	if !ok {
		return
	}
	var pData Pet
	if err := json.NewDecoder(c.Request.Body).Decode(&pData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Can't decode body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findPet(id)
	if i < 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "Pet not found"})
		return
	}
	s.pets[i].Name = pData.Name
	if len(pData.Tag) > 0 {
		s.pets[i].Tag = pData.Tag
	}

	c.JSON(http.StatusOK, s.pets[i])
}

func (s *Server) deletePetByIdHandler(c *gin.Context) {
	id, ok := petId(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findPet(id)
	if i < 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "Pet not found"})
		return
	}
	s.pets = append(s.pets[:i], s.pets[i+1:]...)
	c.Status(http.StatusNoContent)
}

func (s *Server) getPetByIdHandler(c *gin.Context) {
	id, ok := petId(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findPet(id)
	if i < 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "Pet not found"})
		return
	}
	c.JSON(http.StatusOK, s.pets[i])
}

func (s *Server) getPetsHandler(c *gin.Context) {
	tags := c.QueryArray("tags")

	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := []Pet{}
	for _, pet := range s.pets {
		if len(tags) == 0 || contains(tags, pet.Tag) {
			filtered = append(filtered, pet)
		}
	}

	c.JSON(http.StatusOK, filtered)
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
